package param

// Assignable reports whether a value of kind from may flow into an input of
// kind to. The rules are intentionally small:
//
//   - a kind is assignable to itself
//   - any is assignable to and from every kind
//   - binary kinds are assignable only to the same binary kind or to any
//   - string is assignable to date; the consuming node checks at runtime
//     that the string is a valid ISO-8601 timestamp
//
// Every other cross-kind assignment is rejected at validation time.
func Assignable(from, to Kind) bool {
	if from == to {
		return true
	}
	if from == Any || to == Any {
		return true
	}
	if IsBinary(from) || IsBinary(to) {
		return false
	}
	if from == String && to == Date {
		return true
	}
	return false
}
