package tftp

import (
	"bytes"
	"testing"
)

func TestEncodeRRQPlain(t *testing.T) {
	got := encodeRRQ("/boot/pxelinux.0", 512, false, false)
	want := []byte("\x00\x01boot/pxelinux.0\x00octet\x00")
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeRRQ = %q, want %q", got, want)
	}
}

func TestEncodeRRQWithSizesAndMulticast(t *testing.T) {
	got := encodeRRQ("file.bin", 1024, true, true)
	want := []byte("\x00\x01file.bin\x00octet\x00blksize\x001024\x00tsize\x000\x00multicast\x00\x00")
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeRRQ = %q, want %q", got, want)
	}
}

func TestEncodeRRQSizesOnly(t *testing.T) {
	got := encodeRRQ("file.bin", 1432, true, false)
	want := []byte("\x00\x01file.bin\x00octet\x00blksize\x001432\x00tsize\x000\x00")
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeRRQ = %q, want %q", got, want)
	}
}

func TestEncodeRRQMulticastOnly(t *testing.T) {
	got := encodeRRQ("file.bin", 512, false, true)
	want := []byte("\x00\x01file.bin\x00octet\x00multicast\x00\x00")
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeRRQ = %q, want %q", got, want)
	}
}

// Only a single leading slash is stripped from the path; servers that
// want a genuinely absolute path can be given a double-slash URI.
func TestEncodeRRQStripsSingleLeadingSlash(t *testing.T) {
	got := encodeRRQ("//abs/path", 512, false, false)
	want := []byte("\x00\x01/abs/path\x00octet\x00")
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeRRQ = %q, want %q", got, want)
	}
}

func TestEncodeACK(t *testing.T) {
	got := encodeACK(0x10203)
	want := []byte{0x00, 0x04, 0x02, 0x03}
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeACK = %x, want %x (block should truncate to 16 bits)", got, want)
	}
}

func TestDecodeDATA(t *testing.T) {
	raw := []byte{0x00, 0x03, 0x00, 0x07, 'h', 'i'}
	d, err := decodeDATA(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d.block16 != 7 {
		t.Fatalf("block16 = %d, want 7", d.block16)
	}
	if string(d.payload) != "hi" {
		t.Fatalf("payload = %q, want %q", d.payload, "hi")
	}
}

func TestDecodeDATATooShort(t *testing.T) {
	if _, err := decodeDATA([]byte{0x00, 0x03}); err == nil {
		t.Fatal("expected error decoding a 2-byte DATA packet")
	}
}

func TestDecodeERROR(t *testing.T) {
	raw := []byte{0x00, 0x05, 0x00, 0x01, 'n', 'o', 'p', 'e', 0x00}
	d, err := decodeERROR(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d.code != 1 {
		t.Fatalf("code = %d, want 1", d.code)
	}
	if d.message != "nope" {
		t.Fatalf("message = %q, want %q", d.message, "nope")
	}
}

func TestDecodeOACK(t *testing.T) {
	raw := []byte("\x00\x06blksize\x001024\x00tsize\x0054321\x00")
	opts, err := decodeOACK(raw)
	if err != nil {
		t.Fatal(err)
	}
	if opts["blksize"] != "1024" {
		t.Fatalf("blksize = %q, want 1024", opts["blksize"])
	}
	if opts["tsize"] != "54321" {
		t.Fatalf("tsize = %q, want 54321", opts["tsize"])
	}
}

func TestDecodeOACKToleratesTrailingGarbage(t *testing.T) {
	// IBM Tivoli PXE Server 5.1.0.3 appends stray bytes after a complete
	// OACK body; parsing should keep whatever it already parsed instead
	// of erroring out.
	raw := []byte("\x00\x06blksize\x001024\x00garbage-no-nul")
	opts, err := decodeOACK(raw)
	if err != nil {
		t.Fatal(err)
	}
	if opts["blksize"] != "1024" {
		t.Fatalf("blksize = %q, want 1024", opts["blksize"])
	}
	if len(opts) != 1 {
		t.Fatalf("got %d options, want 1 (trailing garbage should be ignored)", len(opts))
	}
}

func TestDecodeOACKCaseInsensitive(t *testing.T) {
	raw := []byte("\x00\x06BlkSize\x001024\x00")
	opts, err := decodeOACK(raw)
	if err != nil {
		t.Fatal(err)
	}
	if opts["blksize"] != "1024" {
		t.Fatalf("expected lower-cased option name, got %v", opts)
	}
}
