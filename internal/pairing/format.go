package pairing

// FormatCode renders a pairing code for display: "123456" becomes
// "123 456". Codes shorter than four characters are returned unchanged.
func FormatCode(code string) string {
	if len(code) <= 3 {
		return code
	}
	return code[:3] + " " + code[3:]
}
