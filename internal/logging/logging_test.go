package logging

import "testing"

func TestNew(t *testing.T) {
	for _, mode := range []string{"", "prod", "dev"} {
		l, err := New(mode)
		if err != nil || l == nil {
			t.Fatalf("mode=%q err=%v", mode, err)
		}
	}
	if _, err := New("verbose"); err == nil {
		t.Fatal("expected error")
	}
}
