package canon

import (
	"bytes"
	"testing"
)

type sample struct {
	ZField string `canon:"z_field"`
	AField int    `canon:"a_field"`
	Hidden string `canon:"-"`
}

func TestMarshalStructSortsKeysAndExcludesDash(t *testing.T) {
	got, err := Marshal(sample{ZField: "v", AField: 1, Hidden: "secret"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	want := `{"a_field":1,"z_field":"v"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if bytes.Contains(got, []byte("secret")) {
		t.Error("canon:\"-\" field leaked into output")
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	v := map[string]any{"b": 2, "a": 1, "c": []byte{0xff, 0x01}}

	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	second, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("expected identical input to produce identical canonical bytes")
	}
}

func TestMarshalByteSliceIsBase64URLNoPadding(t *testing.T) {
	got, err := Marshal([]byte{0xff, 0xfe})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	// Two bytes do not fill a 3-byte group, so padded standard base64 would
	// be "//4="; RawURLEncoding must give neither '=' nor '/'.
	if bytes.ContainsRune(got, '=') {
		t.Errorf("expected no padding, got %s", got)
	}
	if bytes.ContainsRune(got, '+') || bytes.ContainsRune(got, '/') {
		t.Errorf("expected url-safe alphabet, got %s", got)
	}
}

func TestMarshalFloatTrimsTrailingZeros(t *testing.T) {
	got, err := Marshal(2.0)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(got) != "2" {
		t.Errorf("whole-valued float should encode without fractional part, got %s", got)
	}

	got, err = Marshal(2.5)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(got) != "2.5" {
		t.Errorf("got %s, want 2.5", got)
	}
}

func TestMarshalMapKeyOrderIndependentOfInsertion(t *testing.T) {
	a := map[string]any{"zebra": 1, "apple": 2, "mango": 3}
	got, err := Marshal(a)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"apple":2,"mango":3,"zebra":1}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
