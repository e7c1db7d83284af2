package xylem

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ChainSafe/go-schnorrkel"
	"github.com/vedhavyas/go-subkey/v2"

	"hetu/internal/synapse"
	"hetu/internal/utils"
)

// VerifySignature returns a VerifyFn checking the sr25519 signature a
// phloem client puts on its requests. The signed string is
// "<nonce>.<hotkey>.<url>", where url is this server's external base URL
// plus the service path, so a signature captured for one endpoint cannot be
// replayed against another.
func VerifySignature(externalURL string) VerifyFn {
	return func(msg synapse.Message) error {
		base := msg.Base()
		if base.Hotkey == "" {
			return utils.Wrap("missing hotkey")
		}
		if base.Signature == "" {
			return utils.Wrap("missing signature")
		}
		nonce := base.Metadata["nonce"]
		if nonce == "" {
			return utils.Wrap("missing nonce")
		}
		signed := fmt.Sprintf("%s.%s.%s/%s", nonce, base.Hotkey, externalURL, msg.ServiceName())
		return verifySr25519(base.Hotkey, base.Signature, []byte(signed))
	}
}

func verifySr25519(ss58 string, sigHex string, message []byte) error {
	_, pubBytes, err := subkey.SS58Decode(ss58)
	if err != nil {
		return utils.Wrap("invalid hotkey", err)
	}
	if len(pubBytes) != 32 {
		return utils.Wrap("invalid hotkey length")
	}
	var pubArr [32]byte
	copy(pubArr[:], pubBytes)
	pub, err := schnorrkel.NewPublicKey(pubArr)
	if err != nil {
		return utils.Wrap("invalid public key", err)
	}

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return utils.Wrap("invalid signature encoding", err)
	}
	if len(sigBytes) != 64 {
		return utils.Wrap("invalid signature length")
	}
	var sigArr [64]byte
	copy(sigArr[:], sigBytes)
	sig := new(schnorrkel.Signature)
	if err := sig.Decode(sigArr); err != nil {
		return utils.Wrap("invalid signature", err)
	}

	ok, err := pub.Verify(sig, schnorrkel.NewSigningContext([]byte("substrate"), message))
	if err != nil {
		return utils.Wrap("signature verification errored", err)
	}
	if !ok {
		return utils.Wrap("signature mismatch")
	}
	return nil
}
