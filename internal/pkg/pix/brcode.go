package pix

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// BR Code EMV tags in emission order.
const (
	tagPayloadFormat      = "00"
	tagInitiationMethod   = "01"
	tagMerchantAccount    = "26"
	tagMerchantCategory   = "52"
	tagCurrency           = "53"
	tagAmount             = "54"
	tagCountryCode        = "58"
	tagMerchantName       = "59"
	tagMerchantCity       = "60"
	tagAdditionalData     = "62"
	tagCRC                = "63"
	subTagGUI             = "00"
	subTagPixKey          = "01"
	subTagTxID            = "05"
	subTagDescription     = "02"
	pixGUI                = "br.gov.bcb.pix"
	payloadFormatValue    = "01"
	initiationMethodValue = "12"
	categoryCodeValue     = "0000"
	currencyBRL           = "986"
	countryBR             = "BR"
)

// TLV lengths are two decimal digits, so no emitted value may exceed
// 99 bytes. The key and description caps leave room for the headers of
// the composed tag 26 and tag 62 blocks, keeping those blocks at or
// below 99 bytes too.
const (
	maxNameLen        = 25
	maxCityLen        = 15
	maxTxIDLen        = 25
	maxKeyLen         = 77
	maxDescriptionLen = 66
	maxAmountLen      = 13
)

// ErrInvalidKey is returned when the payee Pix key is empty. Every other
// input is clamped or truncated so a checkout screen always gets a
// scannable code back.
var ErrInvalidKey = errors.New("pix: payee key is required")

// Payment holds the inputs for a merchant-presented BR Code.
type Payment struct {
	Key         string
	Name        string
	City        string
	Amount      float64
	TxID        string
	Description string
}

// BuildPayload renders the payment as an EMV TLV payload with a trailing
// CRC16 checksum, the text a Pix app scans or the user copy-pastes.
func BuildPayload(p Payment) (string, error) {
	key := truncate(strings.TrimSpace(p.Key), maxKeyLen)
	if key == "" {
		return "", ErrInvalidKey
	}

	var b strings.Builder
	b.WriteString(field(tagPayloadFormat, payloadFormatValue))
	b.WriteString(field(tagInitiationMethod, initiationMethodValue))

	account := field(subTagGUI, pixGUI) + field(subTagPixKey, key)
	b.WriteString(field(tagMerchantAccount, account))

	b.WriteString(field(tagMerchantCategory, categoryCodeValue))
	b.WriteString(field(tagCurrency, currencyBRL))
	if p.Amount > 0 {
		// An amount too large for the field is dropped rather than
		// truncated; cutting digits would change the charged value.
		if amount := fmt.Sprintf("%.2f", p.Amount); len(amount) <= maxAmountLen {
			b.WriteString(field(tagAmount, amount))
		}
	}
	b.WriteString(field(tagCountryCode, countryBR))
	b.WriteString(field(tagMerchantName, sanitize(p.Name, maxNameLen)))
	b.WriteString(field(tagMerchantCity, sanitize(p.City, maxCityLen)))

	txID := truncate(strings.TrimSpace(p.TxID), maxTxIDLen)
	description := truncate(strings.TrimSpace(p.Description), maxDescriptionLen)
	if txID != "" || description != "" {
		var add strings.Builder
		if txID != "" {
			add.WriteString(field(subTagTxID, txID))
		}
		if description != "" {
			add.WriteString(field(subTagDescription, description))
		}
		b.WriteString(field(tagAdditionalData, add.String()))
	}

	// The checksum covers everything emitted so far plus its own "6304"
	// header, rendered as 4 uppercase hex digits.
	b.WriteString(tagCRC + "04")
	sum := crc16([]byte(b.String()))
	b.WriteString(fmt.Sprintf("%04X", sum))

	return b.String(), nil
}

// VerifyPayload recomputes the trailing CRC of a BR Code payload.
func VerifyPayload(payload string) bool {
	if len(payload) < 8 {
		return false
	}
	body := payload[:len(payload)-4]
	if !strings.HasSuffix(body, tagCRC+"04") {
		return false
	}
	expected := fmt.Sprintf("%04X", crc16([]byte(body)))
	return expected == payload[len(payload)-4:]
}

func field(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

func sanitize(s string, max int) string {
	return truncate(stripDiacritics(strings.TrimSpace(s)), max)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// stripDiacritics decomposes the string and drops combining marks, so
// "São Paulo" becomes "Sao Paulo". Payment apps reject non-ASCII in the
// name and city fields.
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
