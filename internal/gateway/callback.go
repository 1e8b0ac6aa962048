package gateway

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/odamigo/eurotrain-booking/internal/entity"
)

// Шлюз не гарантирует ни единый канал доставки, ни единый регистр имен
// полей: GET-редирект и POST-вебхук присылают один и тот же колбэк в
// разных написаниях. Алиасы приводятся к канонической форме прямо на
// границе, дальше адаптера сырой формат не уходит.
var callbackAliases = map[string]string{
	"responsecode":      "response_code",
	"respcode":          "response_code",
	"code":              "response_code",
	"merchantpaymentid": "merchant_payment_id",
	"orderid":           "merchant_payment_id",
	"orderno":           "merchant_payment_id",
	"transactionid":     "gateway_tx_id",
	"tranid":            "gateway_tx_id",
	"gatewaytxid":       "gateway_tx_id",
	"cardlastfour":      "card_last_four",
	"lastfourdigits":    "card_last_four",
	"maskedpan":         "card_last_four",
	"last4":             "card_last_four",
	"cardbrand":         "card_brand",
	"cardtype":          "card_brand",
	"brand":             "card_brand",
	"threedsecure":      "three_d_secure",
	"3dsecure":          "three_d_secure",
	"securedflag":       "three_d_secure",
	"nonce":             "nonce",
	"signature":         "signature",
	"securehash":        "signature",
	"hash":              "signature",
}

func canonicalKey(key string) (string, bool) {
	normalized := strings.ToLower(key)
	normalized = strings.NewReplacer("_", "", "-", "").Replace(normalized)
	canonical, ok := callbackAliases[normalized]
	return canonical, ok
}

func normalizeValues(values map[string]string, raw []byte) *entity.GatewayCallback {
	fields := make(map[string]string, len(values))
	for key, value := range values {
		if canonical, ok := canonicalKey(key); ok {
			fields[canonical] = value
		}
	}

	threeDS := strings.ToLower(fields["three_d_secure"])

	return &entity.GatewayCallback{
		ResponseCode:      fields["response_code"],
		MerchantPaymentID: fields["merchant_payment_id"],
		GatewayTxID:       fields["gateway_tx_id"],
		CardLastFour:      fields["card_last_four"],
		CardBrand:         fields["card_brand"],
		ThreeDSecure:      threeDS == "1" || threeDS == "true" || threeDS == "y",
		Nonce:             fields["nonce"],
		Signature:         fields["signature"],
		Raw:               raw,
	}
}

// ParseCallbackQuery нормализует GET-редирект браузера
func ParseCallbackQuery(query url.Values) *entity.GatewayCallback {
	values := make(map[string]string, len(query))
	for key := range query {
		values[key] = query.Get(key)
	}
	return normalizeValues(values, []byte(query.Encode()))
}

// ParseCallbackBody нормализует POST-вебхук: JSON либо form-encoded
func ParseCallbackBody(body []byte, contentType string) (*entity.GatewayCallback, error) {
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		return ParseCallbackQuery(form), nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			values[key] = v
		case bool:
			if v {
				values[key] = "true"
			} else {
				values[key] = "false"
			}
		case float64:
			// целочисленные коды приходят из JSON как float64
			values[key] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return normalizeValues(values, body), nil
}
