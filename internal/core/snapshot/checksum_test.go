package snapshot

import "testing"

func TestNewChecksum(t *testing.T) {
	data := []byte("123456789")

	tests := []struct {
		alg    string
		length int
	}{
		{"", 8},
		{ChecksumCRC32, 8},
		{ChecksumMurmur3, 32},
		{ChecksumBLAKE3, 64},
	}
	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			sum, err := NewChecksum(tt.alg)
			if err != nil {
				t.Fatalf("NewChecksum: %v", err)
			}
			got := sum(data)
			if len(got) != tt.length {
				t.Errorf("len(%q) = %d, want %d", got, len(got), tt.length)
			}
			if sum(data) != got {
				t.Error("checksum is not deterministic")
			}
			if sum([]byte("12345678")) == got {
				t.Error("different payloads share a checksum")
			}
		})
	}

	if got := crc32Sum(data); got != "cbf43926" {
		t.Errorf("crc32 = %s, want cbf43926", got)
	}
	if _, err := NewChecksum("md5"); err == nil {
		t.Error("unknown algorithm should fail")
	}
}
