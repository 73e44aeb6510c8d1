package dispatcher

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/flightsurety/oracle-server/flightsurety/contract"
)

// StatusSource decides the flight status an oracle reports for a request.
type StatusSource interface {
	StatusCode(req *contract.OracleRequest) uint8
}

// FixedStatus always reports the same code.
type FixedStatus uint8

func (s FixedStatus) StatusCode(*contract.OracleRequest) uint8 { return uint8(s) }

// RandomStatus simulates an oracle by picking any valid status code.
type RandomStatus struct{}

func (RandomStatus) StatusCode(*contract.OracleRequest) uint8 {
	return contract.StatusCodes[rand.IntN(len(contract.StatusCodes))]
}

// ParseStatusSource accepts "random" or one of the numeric status codes.
func ParseStatusSource(s string) (StatusSource, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "random" {
		return RandomStatus{}, nil
	}
	code, err := strconv.ParseUint(s, 10, 8)
	if err != nil || !contract.ValidStatus(uint8(code)) {
		return nil, fmt.Errorf("invalid status %q, want random or one of %v", s, contract.StatusCodes)
	}
	return FixedStatus(code), nil
}
