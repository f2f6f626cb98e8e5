package server

import (
	"math/rand"
	"strings"

	"chipcall-server/internal/chipcall"
)

// GenerateRoomCode picks an unused 4-letter code. Codes are the public
// room ids players type to join.
func GenerateRoomCode(usedCodes map[string]bool) string {
	for {
		code := make([]byte, 4)
		for i := range code {
			code[i] = 'A' + byte(rand.Intn(26))
		}
		roomCode := string(code)

		if !usedCodes[roomCode] {
			return roomCode
		}
	}
}

func ValidateRoomCode(code string) error {
	if len(code) != 4 {
		return chipcall.Errf(chipcall.CodeValidation, "room code must be exactly 4 characters")
	}

	code = strings.ToUpper(code)
	for _, ch := range code {
		if ch < 'A' || ch > 'Z' {
			return chipcall.Errf(chipcall.CodeValidation, "room code must contain only letters A-Z")
		}
	}

	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(code)
}
