package tftp

import "testing"

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw      string
		wantMode Mode
		wantHost string
		wantPort int
		wantPath string
	}{
		{"tftp://boot.example.com/pxelinux.0", ModeTFTP, "boot.example.com", 0, "/pxelinux.0"},
		{"tftp://10.0.0.1:6969/images/kernel", ModeTFTP, "10.0.0.1", 6969, "/images/kernel"},
		{"tftm://10.0.0.1/kernel", ModeTFTM, "10.0.0.1", 0, "/kernel"},
		{"mtftp://10.0.0.1/kernel", ModeMTFTP, "10.0.0.1", 0, "/kernel"},
	}
	for _, tt := range tests {
		target, mode, err := ParseTarget(tt.raw)
		if err != nil {
			t.Fatalf("ParseTarget(%q): %v", tt.raw, err)
		}
		if mode != tt.wantMode {
			t.Errorf("ParseTarget(%q) mode = %v, want %v", tt.raw, mode, tt.wantMode)
		}
		if target.Host != tt.wantHost || target.Port != tt.wantPort || target.Path != tt.wantPath {
			t.Errorf("ParseTarget(%q) = %+v, want host %q port %d path %q",
				tt.raw, target, tt.wantHost, tt.wantPort, tt.wantPath)
		}
	}
}

func TestParseTargetRejectsBadURIs(t *testing.T) {
	bad := []string{
		"http://host/file",
		"tftp:///file",
		"tftp://host",
		"tftp://host/",
	}
	for _, raw := range bad {
		_, _, err := ParseTarget(raw)
		if err == nil {
			t.Errorf("ParseTarget(%q) succeeded, want error", raw)
			continue
		}
		assertKind(t, err, KindInvalidArg)
	}
}
