package events

import (
	"math/big"
	"strconv"
	"strings"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
