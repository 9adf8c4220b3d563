package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	algorithm = "argon2id"

	minMemoryKB    = 8 * 1024
	minTime        = 1
	minParallelism = 1
	minSaltLength  = 16
	minKeyLength   = 16
)

type Config struct {
	MemoryKB    uint32 `json:"memory_kb"`
	Time        uint32 `json:"time"`
	Parallelism uint8  `json:"parallelism"`
	SaltLength  uint32 `json:"salt_length"`
	KeyLength   uint32 `json:"key_length"`
}

func DefaultConfig() Config {
	return Config{
		MemoryKB:    64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher produces self-describing argon2id digests:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
//
// Digests written by the previous bcrypt-based store are still accepted by Verify.
type Hasher struct {
	cfg Config
}

func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.MemoryKB < minMemoryKB:
		return nil, fmt.Errorf("password memory_kb must be >= %d", minMemoryKB)
	case cfg.Time < minTime:
		return nil, fmt.Errorf("password time must be >= %d", minTime)
	case cfg.Parallelism < minParallelism:
		return nil, fmt.Errorf("password parallelism must be >= %d", minParallelism)
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("password salt_length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("password key_length must be >= %d", minKeyLength)
	}
	return &Hasher{cfg: cfg}, nil
}

func (h *Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(plain), salt, h.cfg.Time, h.cfg.MemoryKB, h.cfg.Parallelism, h.cfg.KeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm,
		argon2.Version,
		h.cfg.MemoryKB,
		h.cfg.Time,
		h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plain matches digest. Malformed digests never match.
func (h *Hasher) Verify(plain, digest string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
	}
	parsed, err := parse(digest)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(plain), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(computed, parsed.key) == 1
}

// NeedsUpgrade reports whether digest should be replaced by a fresh Hash result.
func (h *Hasher) NeedsUpgrade(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	parsed, err := parse(digest)
	if err != nil {
		return true
	}
	return parsed.memory < h.cfg.MemoryKB ||
		parsed.time < h.cfg.Time ||
		parsed.parallelism < h.cfg.Parallelism ||
		uint32(len(parsed.key)) != h.cfg.KeyLength
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parse(digest string) (*phc, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithm {
		return nil, fmt.Errorf("invalid digest format")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("unsupported argon2 version")
	}
	out := &phc{}
	var seen int
	for _, pair := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q", pair)
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < minMemoryKB {
				return nil, fmt.Errorf("invalid memory parameter")
			}
			out.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < minTime {
				return nil, fmt.Errorf("invalid time parameter")
			}
			out.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < minParallelism {
				return nil, fmt.Errorf("invalid parallelism parameter")
			}
			out.parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("unsupported parameter %q", k)
		}
		seen++
	}
	if seen != 3 {
		return nil, fmt.Errorf("missing parameters")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLength {
		return nil, fmt.Errorf("invalid salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("invalid key")
	}
	out.salt = salt
	out.key = key
	return out, nil
}
