package storage

import (
	"bytes"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	plain := []byte("image bytes, possibly sensitive")

	sealed, err := encryptGCM(plain, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !isEnvelope(sealed) {
		t.Fatal("sealed data must carry the envelope magic")
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("plaintext leaked into the envelope")
	}

	got, err := decryptGCM(sealed, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestEnvelopeWrongPassword(t *testing.T) {
	sealed, err := encryptGCM([]byte("data"), "right")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := decryptGCM(sealed, "wrong"); err == nil {
		t.Fatal("wrong password must fail authentication")
	}
}

func TestEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := decryptGCM([]byte("short"), "p"); err == nil {
		t.Fatal("short input must be rejected")
	}
	long := make([]byte, 128)
	if _, err := decryptGCM(long, "p"); err == nil {
		t.Fatal("input without magic must be rejected")
	}
	if isEnvelope([]byte("plain png bytes")) {
		t.Fatal("plain data misdetected as envelope")
	}
}

func TestParseRef(t *testing.T) {
	bucket, key, ok := ParseRef("s3://photos/2024/cat.png")
	if !ok || bucket != "photos" || key != "2024/cat.png" {
		t.Fatalf("ParseRef = %q %q %v", bucket, key, ok)
	}
	for _, bad := range []string{"http://x/y", "s3://", "s3://bucketonly", "s3://bucket/"} {
		if _, _, ok := ParseRef(bad); ok {
			t.Fatalf("ParseRef(%q) should fail", bad)
		}
	}
}
