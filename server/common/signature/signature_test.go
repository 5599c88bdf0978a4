package signature

import "testing"

func TestVerifyAcceptsMatchingDigest(t *testing.T) {
	body := []byte(`{"destination":"channel-1","events":[]}`)
	signed := Sign("secret-1", body)

	if !Verify("secret-1", body, signed) {
		t.Fatal("valid signature rejected")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"destination":"channel-1"}`)
	signed := Sign("secret-1", body)

	if Verify("secret-1", []byte(`{"destination":"channel-2"}`), signed) {
		t.Fatal("signature accepted over different body")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte("payload")
	signed := Sign("secret-1", body)

	if Verify("secret-2", body, signed) {
		t.Fatal("signature accepted under wrong secret")
	}
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	body := []byte("payload")

	for _, provided := range []string{"", "not-base64!!!", "dG9vLXNob3J0"} {
		if Verify("secret-1", body, provided) {
			t.Fatalf("malformed signature %q accepted", provided)
		}
	}
}

func TestVerifyEmptyBody(t *testing.T) {
	signed := Sign("secret-1", nil)
	if !Verify("secret-1", nil, signed) {
		t.Fatal("valid signature over empty body rejected")
	}
}
