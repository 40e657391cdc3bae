package uploads

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"patients.csv", true},
		{"PATIENTS.CSV", true},
		{"clinic.db", true},
		{"archive.tar.csv", true},
		{"notes.txt", false},
		{"csv", false},
		{"noext", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Allowed(tt.name); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"patients.csv", "patients.csv"},
		{"My Clinic Data.csv", "My_Clinic_Data.csv"},
		{"../../etc/passwd", "etc_passwd"},
		{`C:\data\records.csv`, "C_data_records.csv"},
		{"Café Résumé.csv", "Cafe_Resume.csv"},
		{"..hidden.csv", "hidden.csv"},
		{"مریض.csv", "csv"},
		{"a$b%c.csv", "abc.csv"},
	}
	for _, tt := range tests {
		if got := SecureFilename(tt.in); got != tt.want {
			t.Errorf("SecureFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSave_WritesFile(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	name, err := d.Save("My Data.csv", strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if name != "My_Data.csv" {
		t.Errorf("name = %q, want My_Data.csv", name)
	}

	data, err := os.ReadFile(d.Path(name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("content = %q", data)
	}

	entries, _ := os.ReadDir(d.Root())
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (temp file left behind?)", len(entries))
	}
}

func TestSave_RejectsExtension(t *testing.T) {
	d, _ := NewDir(t.TempDir())

	_, err := d.Save("evil.exe", strings.NewReader("x"))
	if !errors.Is(err, ErrNotAllowed) {
		t.Errorf("error = %v, want ErrNotAllowed", err)
	}
}

func TestSave_RejectsNameThatSanitisesAway(t *testing.T) {
	d, _ := NewDir(t.TempDir())

	// "مریض.csv" sanitises to "csv", which has no extension left.
	_, err := d.Save("مریض.csv", strings.NewReader("x"))
	if !errors.Is(err, ErrInvalidName) {
		t.Errorf("error = %v, want ErrInvalidName", err)
	}
}

func TestRemove(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	name, err := d.Save("a.csv", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Remove(name); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(d.Path(name)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still present after Remove")
	}
	if err := d.Remove(name); err != nil {
		t.Errorf("second Remove = %v, want nil", err)
	}
}
