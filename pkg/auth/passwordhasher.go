package auth

// PasswordHasher defines the interface for one-way password credential
// hashing and verification
type PasswordHasher interface {
	// Hash generates a hash from a plaintext password
	Hash(password string) (string, error)

	// Verify checks a plaintext password against a stored hash
	Verify(password, hashedPassword string) (bool, error)
}
