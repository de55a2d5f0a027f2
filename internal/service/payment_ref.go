package service

// maxPaymentRefLen matches the payment_ref column width.
const maxPaymentRefLen = 64

// ValidatePaymentRef accepts an empty reference, which is filled in
// from the gateway on confirmation, or up to 64 characters of letters,
// digits and ". _ - :".  A buyer-supplied reference only routes the
// gateway's answer to the record; status always comes from the gateway.
func ValidatePaymentRef(ref string) error {
	if len(ref) > maxPaymentRefLen {
		return ErrInvalidPaymentRef
	}
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-', r == ':':
		default:
			return ErrInvalidPaymentRef
		}
	}
	return nil
}
