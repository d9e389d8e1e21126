package hooks

import (
	"context"
	"strings"
	"testing"
)

func TestRunVolumeFilter_Include(t *testing.T) {
	dec, err := RunVolumeFilter(context.Background(), `echo include`, FilterRequest{
		Volume: "user.foo", SrcCell: "src", DstCell: "dst", Qname: "default", Operation: OperationSync,
	})
	if err != nil {
		t.Fatalf("RunVolumeFilter: %v", err)
	}
	if dec != Include {
		t.Errorf("decision = %q, want include", dec)
	}
}

func TestRunVolumeFilter_PassesEnvironment(t *testing.T) {
	script := `if [ "$CELLCC_FILTER_VOLUME" = "user.foo" ] && [ "$CELLCC_FILTER_OPERATION" = "delete" ]; then echo exclude; else echo include; fi`
	dec, err := RunVolumeFilter(context.Background(), script, FilterRequest{
		Volume: "user.foo", Operation: OperationDelete,
	})
	if err != nil {
		t.Fatalf("RunVolumeFilter: %v", err)
	}
	if dec != Exclude {
		t.Errorf("decision = %q, want exclude", dec)
	}
}

func TestRunVolumeFilter_CommentsAndBlanksTolerated(t *testing.T) {
	dec, err := RunVolumeFilter(context.Background(), `printf '# comment\n\ninclude\n'`, FilterRequest{})
	if err != nil {
		t.Fatalf("RunVolumeFilter: %v", err)
	}
	if dec != Include {
		t.Errorf("decision = %q, want include", dec)
	}
}

func TestRunVolumeFilter_RejectsBothDecisions(t *testing.T) {
	_, err := RunVolumeFilter(context.Background(), `printf 'include\nexclude\n'`, FilterRequest{})
	if err == nil {
		t.Fatal("expected error when both include and exclude are emitted")
	}
}

func TestRunVolumeFilter_RejectsNeitherDecision(t *testing.T) {
	_, err := RunVolumeFilter(context.Background(), `echo nonsense`, FilterRequest{})
	if err == nil {
		t.Fatal("expected error for unrecognized output")
	}
}

func TestRunVolumeFilter_NonZeroExitIsFatal(t *testing.T) {
	_, err := RunVolumeFilter(context.Background(), `echo include; exit 1`, FilterRequest{})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestRunSitePicker_ParsesServerPartitionLines(t *testing.T) {
	script := `printf '# pick rw first\nfs1.example.org a\nfs2.example.org b\n\nfs3.example.org c\n'`
	sites, err := RunSitePicker(context.Background(), script, SiteRequest{Volume: "user.foo", DstCell: "dst"})
	if err != nil {
		t.Fatalf("RunSitePicker: %v", err)
	}
	if len(sites) != 3 {
		t.Fatalf("sites = %v, want 3 entries", sites)
	}
	if sites[0] != (Site{Server: "fs1.example.org", Partition: "a"}) {
		t.Errorf("sites[0] = %+v, want rw site first", sites[0])
	}
}

func TestRunSitePicker_MalformedLineIsFatal(t *testing.T) {
	_, err := RunSitePicker(context.Background(), `echo "fs1.example.org a extra"`, SiteRequest{})
	if err == nil {
		t.Fatal("expected error for malformed site line")
	}
	if !strings.Contains(err.Error(), "malformed line") {
		t.Errorf("error = %v, want mention of malformed line", err)
	}
}

func TestRunSitePicker_NoSitesIsFatal(t *testing.T) {
	_, err := RunSitePicker(context.Background(), `echo "# nothing here"`, SiteRequest{})
	if err == nil {
		t.Fatal("expected error when no sites are emitted")
	}
}
