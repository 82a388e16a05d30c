package challenge

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	inviteCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O or 1/I
	InviteCodeLength = 8
)

// GenerateInviteCode returns a random human-shareable invite code
func GenerateInviteCode() (string, error) {
	var sb strings.Builder
	sb.Grow(InviteCodeLength)

	max := big.NewInt(int64(len(inviteCodeChars)))
	for i := 0; i < InviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate invite code: %w", err)
		}
		sb.WriteByte(inviteCodeChars[n.Int64()])
	}

	return sb.String(), nil
}

// NormalizeInviteCode uppercases and trims user input
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
