package protocol

import (
	"testing"
)

// FuzzDecode fuzzes the message decoder with random datagrams
func FuzzDecode(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x00, 0x00, 0x02})
	f.Add(Encode(NewPost(1, 0, "alice", "hi")))
	f.Add(Encode(NewListReply(1, "UDP_SERVER", "2:bob\n3:carol\n")))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := Decode(data)
		if err != nil {
			return
		}

		// Anything accepted must re-encode to an identical prefix
		again, err := Decode(Encode(msg))
		if err != nil {
			t.Fatalf("re-decode failed: %v", err)
		}
		if !again.Equal(msg) {
			t.Fatalf("re-encode changed message: %v vs %v", again, msg)
		}
	})
}

// FuzzParseDirectory fuzzes directory line parsing
func FuzzParseDirectory(f *testing.F) {
	f.Add("1:alice\n2:bob\n")
	f.Add("garbage")
	f.Add(":\n0:x\n-1:y\n")

	f.Fuzz(func(t *testing.T, text string) {
		for _, e := range ParseDirectory(text) {
			if e.ID == 0 {
				t.Fatalf("parsed reserved id 0")
			}
		}
	})
}
