package runtime

import (
	"strings"
	"testing"
)

func TestArchiveTag(t *testing.T) {
	tag := archiveTag("/some/archive.tar")

	if !strings.HasPrefix(tag, "import/") {
		t.Fatalf("tag %q missing import/ prefix", tag)
	}
	if !strings.HasSuffix(tag, ":latest") {
		t.Fatalf("tag %q missing :latest suffix", tag)
	}

	if archiveTag("/some/archive.tar") != tag {
		t.Fatal("archiveTag is not deterministic")
	}

	if archiveTag("/other/archive.tar") == tag {
		t.Fatal("different paths produced the same tag")
	}
}

func TestShortHash(t *testing.T) {
	got := shortHash("")
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("shortHash(\"\") = %q, want %q", got, want)
	}
}

func TestDefaultPlatform(t *testing.T) {
	p := DefaultPlatform()
	if !strings.HasPrefix(p, "linux/") {
		t.Fatalf("DefaultPlatform = %q, want linux/<arch>", p)
	}
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[1] == "" {
		t.Fatalf("DefaultPlatform = %q, want linux/<arch>", p)
	}
}

func TestBindMounts(t *testing.T) {
	got := bindMounts([]Mount{
		{Source: "/home/me/app", Target: "/src"},
		{Source: "/models", Target: "/models", ReadOnly: true},
	})

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Type != "bind" || got[0].Source != "/home/me/app" || got[0].Destination != "/src" {
		t.Fatalf("mount[0] = %+v", got[0])
	}
	if got[0].Options[1] != "rw" {
		t.Fatalf("mount[0] options = %v, want rw", got[0].Options)
	}
	if got[1].Options[1] != "ro" {
		t.Fatalf("mount[1] options = %v, want ro", got[1].Options)
	}
}
