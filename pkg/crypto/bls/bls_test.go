package bls

import "testing"

func TestSignAndVerify(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	message := []byte("seal-id:consensus-id")
	sig := sk.SignWithDomain(message, DomainVerdict)

	if !pk.VerifyWithDomain(sig, message, DomainVerdict) {
		t.Error("expected signature to verify")
	}
	if pk.VerifyWithDomain(sig, []byte("different message"), DomainVerdict) {
		t.Error("expected verification to fail for a different message")
	}
	if pk.VerifyWithDomain(sig, message, DomainThresholdSignature) {
		t.Error("expected verification to fail under a different domain")
	}
}

func TestGenerateKeyPairFromSeedIsDeterministic(t *testing.T) {
	seed := []byte("01234567890123456789012345678901")

	sk1, pk1, err := GenerateKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed: %v", err)
	}
	sk2, pk2, err := GenerateKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed: %v", err)
	}

	if string(sk1.Bytes()) != string(sk2.Bytes()) {
		t.Error("expected identical seeds to derive identical private keys")
	}
	if !pk1.Equal(pk2) {
		t.Error("expected identical seeds to derive identical public keys")
	}
}

func TestAggregateSignaturesVerifiesAgainstAggregatePublicKeys(t *testing.T) {
	message := []byte("seal-root-hash")

	var sigs []*Signature
	var pks []*PublicKey
	for i := 0; i < 4; i++ {
		sk, pk, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		sigs = append(sigs, sk.Sign(message))
		pks = append(pks, pk)
	}

	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("AggregateSignatures: %v", err)
	}

	if !VerifyAggregateSignature(aggSig, pks, message) {
		t.Error("expected aggregate signature to verify against aggregate public keys")
	}
}

func TestAggregateSignatureFailsBelowThresholdParticipants(t *testing.T) {
	message := []byte("seal-root-hash")

	sk1, pk1, _ := GenerateKeyPair()
	sk2, pk2, _ := GenerateKeyPair()
	_, pk3, _ := GenerateKeyPair()

	aggSig, err := AggregateSignatures([]*Signature{sk1.Sign(message), sk2.Sign(message)})
	if err != nil {
		t.Fatalf("AggregateSignatures: %v", err)
	}

	// Verifying against a superset of public keys that did not all sign
	// must fail: the missing signer's contribution is absent from aggSig.
	if VerifyAggregateSignature(aggSig, []*PublicKey{pk1, pk2, pk3}, message) {
		t.Error("expected verification against an unsigned-for key set to fail")
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	sk, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	restored, err := PrivateKeyFromBytes(sk.Bytes())
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	if string(restored.Bytes()) != string(sk.Bytes()) {
		t.Error("round-tripped private key does not match original")
	}
}

func TestValidatePublicKeySubgroupRejectsWrongSize(t *testing.T) {
	if err := ValidatePublicKeySubgroup([]byte{0x01, 0x02}); err == nil {
		t.Error("expected error for undersized public key")
	}
}

func TestValidateSignatureSubgroupAcceptsValidSignature(t *testing.T) {
	sk, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sig := sk.Sign([]byte("msg"))

	if err := ValidateSignatureSubgroup(sig.Bytes()); err != nil {
		t.Errorf("expected a freshly generated signature to validate, got %v", err)
	}
}
