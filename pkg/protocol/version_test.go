package protocol

import "testing"

const versionTestPrefix = "protocol:version_test"

func TestCompatible(t *testing.T) {
	tests := []struct {
		name    string
		version string
		rng     string
		want    bool
		wantErr bool
	}{
		{"own version in default range", Version, "", true, false},
		{"minor bump accepted", "1.4.2", DefaultRange, true, false},
		{"next major rejected", "2.0.0", DefaultRange, false, false},
		{"older major rejected", "0.9.0", DefaultRange, false, false},
		{"empty version accepted", "", DefaultRange, true, false},
		{"explicit range", "2.1.0", ">=1.0.0 <3.0.0", true, false},
		{"bad version", "not-a-version", DefaultRange, false, true},
		{"bad range", "1.0.0", "not-a-range", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compatible(tt.version, tt.rng)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error", versionTestPrefix)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", versionTestPrefix, err)
			}
			if got != tt.want {
				t.Errorf("%s - Compatible(%q, %q) = %v, want %v", versionTestPrefix, tt.version, tt.rng, got, tt.want)
			}
		})
	}
}

func TestValidateRange(t *testing.T) {
	if err := ValidateRange(""); err != nil {
		t.Errorf("%s - empty range should be valid: %v", versionTestPrefix, err)
	}
	if err := ValidateRange(DefaultRange); err != nil {
		t.Errorf("%s - default range should be valid: %v", versionTestPrefix, err)
	}
	if err := ValidateRange("not-a-range"); err == nil {
		t.Errorf("%s - expected error for malformed range", versionTestPrefix)
	}
}
