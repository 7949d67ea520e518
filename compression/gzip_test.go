package compression

import "testing"

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	in := sample{Name: "session-42", Count: 7}

	compressed, result, err := CompressJSON(in)
	if err != nil {
		t.Fatal(err)
	}
	if result.OriginalSize == 0 {
		t.Fatal("expected nonzero original size")
	}
	if result.CompressedSize == 0 {
		t.Fatal("expected nonzero compressed size")
	}

	var out sample
	if err := DecompressJSON(compressed, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	var out sample
	if err := DecompressJSON([]byte("not gzip data"), &out); err == nil {
		t.Fatal("expected error decompressing non-gzip input")
	}
}
