package exchange

import (
	"fmt"
	"strings"
)

// SupportedVenues - закрытый набор поддерживаемых площадок
var SupportedVenues = []string{
	VenueHyperliquid,
	VenueBybit,
	VenueBitget,
	VenueMock,
}

// Credentials - учетные данные площадки.
// Для hyperliquid APIKey = адрес кошелька, Secret = приватный ключ.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// New создает адаптер площадки по имени
func New(name string, creds Credentials) (PerpExchange, error) {
	switch strings.ToLower(name) {
	case VenueBybit:
		return NewBybit(creds.APIKey, creds.Secret), nil
	case VenueBitget:
		return NewBitget(creds.APIKey, creds.Secret, creds.Passphrase), nil
	case VenueHyperliquid:
		return NewHyperliquid(creds.Secret, creds.APIKey), nil
	case VenueMock:
		return NewMock(VenueMock), nil
	default:
		return nil, fmt.Errorf("unsupported venue: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли площадка
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedVenues {
		if name == supported {
			return true
		}
	}
	return false
}
