package recovery

import "testing"

func TestClassify_Categories(t *testing.T) {
	cases := []struct {
		message string
		want    Category
	}{
		{"connection refused by host", CategoryNetwork},
		{"request timed out after 30s", CategoryTimeout},
		{"context deadline exceeded", CategoryTimeout},
		{"unauthorized: token expired", CategoryAuth},
		{"access denied for topic", CategoryPermission},
		{"out of memory while decoding raster", CategoryMemory},
		{"invalid transition from loading", CategoryValidation},
		{"inconsistent state in assignment table", CategoryState},
		{"snapshot integrity check failed", CategoryState},
		{"websocket closed unexpectedly", CategoryTransport},
		{"canvas texture upload failed", CategoryRendering},
		{"malformed metadata document", CategoryValidation},
		{"something nobody anticipated", CategoryUnknown},
	}

	for _, c := range cases {
		got, _ := Classify(c.message, nil)
		if got != c.want {
			t.Fatalf("%q: expected %s, got %s", c.message, c.want, got)
		}
	}
}

func TestClassify_Severity(t *testing.T) {
	if _, s := Classify("connection refused", nil); s != SeverityMedium {
		t.Fatalf("expected medium for network, got %s", s)
	}
	if _, s := Classify("out of memory", nil); s != SeverityHigh {
		t.Fatalf("expected high for memory, got %s", s)
	}
	if _, s := Classify("critical: snapshot corrupt", nil); s != SeverityCritical {
		t.Fatalf("expected critical keyword escalation, got %s", s)
	}
}

func TestClassify_ContextOverridesSeverity(t *testing.T) {
	_, s := Classify("connection refused", map[string]any{"severity": "critical"})
	if s != SeverityCritical {
		t.Fatalf("expected context override to critical, got %s", s)
	}

	// Garbage overrides are ignored.
	_, s = Classify("connection refused", map[string]any{"severity": "apocalyptic"})
	if s != SeverityMedium {
		t.Fatalf("expected heuristic severity kept, got %s", s)
	}
}
