// SPDX-License-Identifier: MIT

package signature

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"jobId":"job_1","status":"completed"}`)
	sig := Sign("topsecret", body)

	if !Verify("topsecret", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if !Verify("topsecret", body, "sha256="+sig) {
		t.Fatal("prefixed signature rejected")
	}
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`{"jobId":"job_1"}`)
	sig := Sign("topsecret", body)

	cases := map[string]struct {
		secret string
		body   []byte
		header string
	}{
		"wrong secret":   {"other", body, sig},
		"tampered body":  {"topsecret", []byte(`{"jobId":"job_2"}`), sig},
		"empty header":   {"topsecret", body, ""},
		"garbage header": {"topsecret", body, "zzzz"},
		"empty secret":   {"", body, sig},
	}
	for name, tc := range cases {
		if Verify(tc.secret, tc.body, tc.header) {
			t.Errorf("%s: signature accepted", name)
		}
	}
}

func TestVerifyUsesRawBytes(t *testing.T) {
	// Key order matters: the signature is over raw bytes, not a parsed object.
	a := []byte(`{"a":1,"b":2}`)
	b := []byte(`{"b":2,"a":1}`)
	if Verify("s", b, Sign("s", a)) {
		t.Fatal("signature over reordered body must not verify")
	}
}
