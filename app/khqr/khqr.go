package khqr

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	GlobalIdentifier    = "kh.gov.nbc.bakong"
	DefaultCategoryCode = "5999"
	CountryCode         = "KH"

	payloadFormatIndicator = "01"
	initiationStatic       = "11"
	initiationDynamic      = "12"
	crcPrefix              = "6304"
	maxValueLength         = 99
)

const (
	TagPayloadFormat     = "00"
	TagInitiationMethod  = "01"
	TagMerchantAccount   = "29"
	TagCategoryCode      = "52"
	TagCurrency          = "53"
	TagAmount            = "54"
	TagCountryCode       = "58"
	TagMerchantName      = "59"
	TagMerchantCity      = "60"
	TagAdditionalData    = "62"
	TagCRC               = "63"
	TagTimestamp         = "99"
	subTagGlobalID       = "00"
	subTagAccountID      = "01"
	subTagPhone          = "02"
	subTagBillNumber     = "01"
	subTagStoreLabel     = "03"
	subTagTerminalLabel  = "07"
	subTagCreatedAtMilli = "00"
)

var (
	ErrInvalidDescriptor = errors.New("invalid khqr descriptor")
	ErrValueTooLong      = errors.New("khqr value exceeds 99 characters")
	ErrMalformedPayload  = errors.New("malformed khqr payload")
	ErrChecksumMismatch  = errors.New("khqr checksum mismatch")
)

// Descriptor is the input to Encode. A zero Amount produces a static QR.
type Descriptor struct {
	AccountID     string
	MerchantName  string
	MerchantCity  string
	Phone         string
	CategoryCode  string
	Amount        decimal.Decimal
	Currency      string
	BillNumber    string
	StoreLabel    string
	TerminalLabel string
	CreatedAt     time.Time
}

// Field is one top level TLV entry of a payload.
type Field struct {
	Tag   string
	Value string
}

func (d Descriptor) Dynamic() bool {
	return d.Amount.IsPositive()
}

func Encode(d Descriptor) (string, error) {
	if strings.TrimSpace(d.AccountID) == "" || strings.TrimSpace(d.MerchantName) == "" || strings.TrimSpace(d.MerchantCity) == "" {
		return "", fmt.Errorf("%w: account id, merchant name and city are required", ErrInvalidDescriptor)
	}
	if d.Amount.IsNegative() {
		return "", fmt.Errorf("%w: amount must not be negative", ErrInvalidDescriptor)
	}

	currency, err := LookupCurrency(d.Currency)
	if err != nil {
		return "", err
	}

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	categoryCode := d.CategoryCode
	if categoryCode == "" {
		categoryCode = DefaultCategoryCode
	}

	b := &builder{}

	b.add(TagPayloadFormat, payloadFormatIndicator)
	if d.Dynamic() {
		b.add(TagInitiationMethod, initiationDynamic)
	} else {
		b.add(TagInitiationMethod, initiationStatic)
	}

	account := &builder{}
	account.add(subTagGlobalID, GlobalIdentifier)
	account.add(subTagAccountID, d.AccountID)
	if d.Phone != "" {
		account.add(subTagPhone, d.Phone)
	}
	b.addNested(TagMerchantAccount, account)

	b.add(TagCategoryCode, categoryCode)
	b.add(TagCountryCode, CountryCode)
	b.add(TagMerchantName, d.MerchantName)
	b.add(TagMerchantCity, d.MerchantCity)

	timestamp := &builder{}
	timestamp.add(subTagCreatedAtMilli, strconv.FormatInt(createdAt.UnixMilli(), 10))
	b.addNested(TagTimestamp, timestamp)

	if d.Dynamic() {
		b.add(TagAmount, currency.FormatAmount(d.Amount))
	}
	b.add(TagCurrency, currency.NumericCode)

	additional := &builder{}
	if d.BillNumber != "" {
		additional.add(subTagBillNumber, d.BillNumber)
	}
	if d.StoreLabel != "" {
		additional.add(subTagStoreLabel, d.StoreLabel)
	}
	if d.TerminalLabel != "" {
		additional.add(subTagTerminalLabel, d.TerminalLabel)
	}
	if additional.sb.Len() > 0 {
		b.addNested(TagAdditionalData, additional)
	}

	if b.err != nil {
		return "", b.err
	}

	b.sb.WriteString(crcPrefix)
	body := b.sb.String()

	return body + CRC16(body), nil
}

// Decode splits a payload into its top level fields in wire order.
func Decode(payload string) ([]Field, error) {
	runes := []rune(payload)
	fields := make([]Field, 0, 12)

	for i := 0; i < len(runes); {
		if i+4 > len(runes) {
			return nil, fmt.Errorf("%w: truncated header at offset %d", ErrMalformedPayload, i)
		}
		tag := string(runes[i : i+2])
		length, err := strconv.Atoi(string(runes[i+2 : i+4]))
		if err != nil {
			return nil, fmt.Errorf("%w: bad length for tag %s", ErrMalformedPayload, tag)
		}
		start := i + 4
		end := start + length
		if end > len(runes) {
			return nil, fmt.Errorf("%w: value of tag %s overruns payload", ErrMalformedPayload, tag)
		}
		fields = append(fields, Field{Tag: tag, Value: string(runes[start:end])})
		i = end
	}

	return fields, nil
}

// Verify recomputes the trailing checksum of payload and checks that its fields parse.
func Verify(payload string) error {
	if len(payload) < len(crcPrefix)+4 {
		return ErrMalformedPayload
	}
	body := payload[:len(payload)-4]
	if !strings.HasSuffix(body, crcPrefix) {
		return fmt.Errorf("%w: missing checksum field", ErrMalformedPayload)
	}
	if CRC16(body) != payload[len(payload)-4:] {
		return ErrChecksumMismatch
	}
	_, err := Decode(payload)
	return err
}

// Hash returns the content addressed identifier used by Bakong to look up a payload.
func Hash(payload string) string {
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

type builder struct {
	sb  strings.Builder
	err error
}

func (b *builder) add(tag, value string) {
	if b.err != nil {
		return
	}
	length := utf8.RuneCountInString(value)
	if length > maxValueLength {
		b.err = fmt.Errorf("%w: tag %s", ErrValueTooLong, tag)
		return
	}
	b.sb.WriteString(tag)
	b.sb.WriteString(fmt.Sprintf("%02d", length))
	b.sb.WriteString(value)
}

func (b *builder) addNested(tag string, nested *builder) {
	if nested.err != nil {
		b.err = nested.err
		return
	}
	b.add(tag, nested.sb.String())
}
