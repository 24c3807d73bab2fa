package clientcert

// PKCS11Config locates a key pair on a PKCS#11 token.
type PKCS11Config struct {
	LibPath string `yaml:"lib_path"`
	Slot    uint   `yaml:"slot"`
	// KeyID is the CKA_ID shared by the certificate and private key objects,
	// hex encoded.
	KeyID string `yaml:"key_id"`
	PIN   string `yaml:"pin"`
}
