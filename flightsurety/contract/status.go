package contract

import (
	"fmt"
	"slices"
)

// Flight status codes understood by the contract.
const (
	StatusUnknown       uint8 = 0
	StatusOnTime        uint8 = 10
	StatusLateAirline   uint8 = 20
	StatusLateWeather   uint8 = 30
	StatusLateTechnical uint8 = 40
	StatusLateOther     uint8 = 50
)

// StatusCodes lists every code an oracle may report.
var StatusCodes = []uint8{
	StatusUnknown,
	StatusOnTime,
	StatusLateAirline,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

func StatusName(code uint8) string {
	switch code {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on time"
	case StatusLateAirline:
		return "late airline"
	case StatusLateWeather:
		return "late weather"
	case StatusLateTechnical:
		return "late technical"
	case StatusLateOther:
		return "late other"
	}
	return fmt.Sprintf("status(%d)", code)
}

// ValidStatus reports whether code is one of StatusCodes.
func ValidStatus(code uint8) bool {
	return slices.Contains(StatusCodes, code)
}
