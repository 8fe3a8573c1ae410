// sanitize_test.go tests name validation for client-supplied file names.
package sanitize

import (
	"errors"
	"strings"
	"testing"
)

func TestPath(t *testing.T) {
	const dir = "/var/log/audit"

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain name", "audit.log", "/var/log/audit/audit.log", nil},
		{"rotated name", "audit.log.1", "/var/log/audit/audit.log.1", nil},
		{"leading dots allowed", "...", "/var/log/audit/...", nil},
		{"hidden file allowed", ".hidden", "/var/log/audit/.hidden", nil},
		{"non-utf8 bytes allowed", "log\xff\xfe", "/var/log/audit/log\xff\xfe", nil},
		{"empty name", "", "/var/log/audit/", nil},
		{"dot", ".", "", ErrNameDotEntry},
		{"dot dot", "..", "", ErrNameDotEntry},
		{"traversal", "../../etc/shadow", "", ErrNameHasSeparator},
		{"absolute", "/etc/shadow", "", ErrNameHasSeparator},
		{"trailing slash", "audit.log/", "", ErrNameHasSeparator},
		{"embedded NUL", "audit.log\x00.txt", "", ErrNameHasNUL},
		{"too long", strings.Repeat("a", DefaultNameMax+1), "", ErrNameTooLong},
		{"long separator name reports length first", strings.Repeat("/", DefaultNameMax+1), "", ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Path(dir, []byte(tt.input), DefaultNameMax)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPathMaxLengthAccepted(t *testing.T) {
	name := strings.Repeat("a", DefaultNameMax)
	got, err := Path("/d", []byte(name), DefaultNameMax)
	if err != nil {
		t.Fatalf("expected name of exactly the limit to pass, got %v", err)
	}
	if got != "/d/"+name {
		t.Errorf("unexpected path %q", got)
	}
}

func TestResolveNameMax(t *testing.T) {
	t.Run("configured value wins", func(t *testing.T) {
		if got := ResolveNameMax(t.TempDir(), 100); got != 100 {
			t.Errorf("expected 100, got %d", got)
		}
	})

	t.Run("configured value is capped", func(t *testing.T) {
		if got := ResolveNameMax(t.TempDir(), 4096); got != DefaultNameMax {
			t.Errorf("expected %d, got %d", DefaultNameMax, got)
		}
	})

	t.Run("missing directory falls back", func(t *testing.T) {
		if got := ResolveNameMax("/nonexistent/auditview-test", 0); got != DefaultNameMax {
			t.Errorf("expected %d, got %d", DefaultNameMax, got)
		}
	})

	t.Run("resolved from filesystem", func(t *testing.T) {
		got := ResolveNameMax(t.TempDir(), 0)
		if got <= 0 || got > DefaultNameMax {
			t.Errorf("resolved limit out of range: %d", got)
		}
	})
}
