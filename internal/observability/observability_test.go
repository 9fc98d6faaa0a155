package observability

import (
	"context"
	"testing"
)

func TestStartSpanWithoutInit(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "dispatch.agent_message")
	if ctx == nil {
		t.Fatal("expected a context")
	}
	if span == nil {
		t.Fatal("expected a span")
	}
	span.End()
}

func TestInitDisabled(t *testing.T) {
	if err := Init(Config{ServiceName: "test", Enabled: false}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInitUnknownExporter(t *testing.T) {
	err := Init(Config{ServiceName: "test", Enabled: true, ExporterType: "jaeger"})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{name: "empty", input: "", want: nil},
		{
			name:  "single pair",
			input: "authorization=Bearer abc",
			want:  map[string]string{"authorization": "Bearer abc"},
		},
		{
			name:  "multiple pairs with spaces",
			input: "a=1, b = 2",
			want:  map[string]string{"a": "1", "b": "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHeaders(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("header %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
