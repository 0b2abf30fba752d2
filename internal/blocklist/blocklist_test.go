package blocklist

import (
	"reflect"
	"testing"
)

func TestCheck(t *testing.T) {
	s := NewService(nil)
	s.SetBlocked("Gore", "underage ")

	got := s.Check([]string{"fantasy", "GORE", "gore", "Underage", "romance"})
	want := []string{"gore", "underage"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Check = %v, want %v", got, want)
	}

	if got := s.Check([]string{"fantasy", "romance"}); len(got) != 0 {
		t.Errorf("clean list flagged: %v", got)
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{" Fantasy", "fantasy", "", "  ", "Sci-Fi", "sci-fi"})
	want := []string{"fantasy", "sci-fi"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeAll = %v, want %v", got, want)
	}
}
