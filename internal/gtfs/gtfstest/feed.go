// Package gtfstest builds small GTFS archives for tests.
package gtfstest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteFeed writes files (entry name -> content) as a zip archive named name
// inside dir and returns its path. Entries are written in sorted order.
func WriteFeed(t testing.TB, dir, name string, files map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, n := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: n, Method: zip.Deflate})
		if err != nil {
			t.Fatalf("create entry %s: %v", n, err)
		}
		if _, err := w.Write([]byte(files[n])); err != nil {
			t.Fatalf("write entry %s: %v", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

// CorruptEntry flips a byte inside the data of entry name so that reading it
// fails (checksum or inflate error) while the directory stays intact.
func CorruptEntry(t testing.TB, path, name string) {
	t.Helper()

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	var offset, size int64 = -1, 0
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		if offset, err = f.DataOffset(); err != nil {
			t.Fatalf("data offset %s: %v", name, err)
		}
		size = int64(f.CompressedSize64)
	}
	_ = zr.Close()
	if offset < 0 || size == 0 {
		t.Fatalf("entry %s not in %s", name, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[offset+size/2] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// ReadFeed returns the entries of the archive at path
func ReadFeed(t testing.TB, path string) map[string]string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = zr.Close() }()

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		buf, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		_ = rc.Close()
		out[f.Name] = string(buf)
	}
	return out
}

// Sample is a small consistent feed: two routes (rail and bus), two trips,
// two services and four stops, one of them a platform of a station.
func Sample() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"A1,Rail Co,http://rail.example,Europe/Berlin\n" +
			"A2,Bus Co,http://bus.example,Europe/Berlin\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_type\n" +
			"R1,A1,IC 1,2\n" +
			"R2,A2,42,3\n",
		"trips.txt": "route_id,service_id,trip_id,shape_id\n" +
			"R1,WD,T1,SH1\n" +
			"R2,WE,T2,SH2\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WD,1,1,1,1,1,0,0,20240101,20240331\n" +
			"WE,0,0,0,0,0,1,1,20240701,20240930\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
			"STA,Central Station,52.52,13.40,1,\n" +
			"P1,Central Station Platform 1,52.521,13.401,0,STA\n" +
			"S2,Market Square,52.50,13.30,0,\n" +
			"S3,Depot,52.40,13.20,0,\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:00,P1,1\n" +
			"T1,08:30:00,08:30:00,S2,2\n" +
			"T2,09:00:00,09:00:00,S2,1\n" +
			"T2,09:10:00,09:10:00,S3,2\n",
		"shapes.txt": "shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence\n" +
			"SH1,52.52,13.40,1\n" +
			"SH2,52.50,13.30,1\n",
	}
}
