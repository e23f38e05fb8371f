package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryDerivation(t *testing.T) {
	cases := []struct {
		code string
		want Category
	}{
		{CodeDiskFull, CategoryDisk},
		{CodeDriveUnmounted, CategoryDisk},
		{CodePermRead, CategoryPerm},
		{CodeConfInvalid, CategoryConf},
		{CodeDBTimeout, CategoryDB},
		{CodeDBToolMissing, CategoryDB},
		{CodeNetUnreachable, CategoryNet},
		{CodeFileVanished, CategoryFile},
		{CodeCapNoDocker, CategoryCapability},
		{"EWEIRD", CategoryUnknown},
	}
	for _, c := range cases {
		if got := New(c.code, "x").Category; got != c.want {
			t.Errorf("categoryFor(%s) = %s, want %s", c.code, got, c.want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk quota exceeded")
	err := Wrap(CodeDiskFull, cause, "writing archive")

	if !errors.Is(err, cause) {
		t.Error("wrapped error should match the cause with errors.Is")
	}
	if CodeOf(err) != CodeDiskFull {
		t.Errorf("CodeOf = %s, want %s", CodeOf(err), CodeDiskFull)
	}

	// Code survives further wrapping with %w
	outer := fmt.Errorf("backup failed: %w", err)
	if CodeOf(outer) != CodeDiskFull {
		t.Errorf("CodeOf through %%w = %s, want %s", CodeOf(outer), CodeDiskFull)
	}
}

func TestDescribeKnownAndUnknown(t *testing.T) {
	desc, fix := Describe(CodeDiskFull)
	if desc == "" || fix == "" {
		t.Error("known code should have description and fix")
	}
	desc, fix = Describe("ENOPE")
	if desc == "" || fix == "" {
		t.Error("unknown code should fall back to the catch-all hint")
	}
}

func TestIsCapability(t *testing.T) {
	if !IsCapability(New(CodeCapNoManager, "no launchd")) {
		t.Error("ECAP001 should be a capability error")
	}
	if IsCapability(New(CodeDiskFull, "full")) {
		t.Error("EDISK001 is not a capability error")
	}
	if IsCapability(errors.New("plain")) {
		t.Error("plain errors are not capability errors")
	}
}
