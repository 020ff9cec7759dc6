// Package normalizer implements the kana-conversion contract (spec §6):
// text in, hiragana out, pure and deterministic. No kana-conversion library
// is attested anywhere in the example pool (grep across every repo for
// mecab/kagome/romaji/hiragana turns up nothing but an unrelated Unicode
// comment), so this is the one contract in the pipeline with no ecosystem
// library to wire — exactly like Transcriber and Translator, it is treated
// as an opaque external collaborator and this is a conformant stand-in.
package normalizer

// Normalizer converts text to hiragana. Implementations must be pure and
// idempotent on hiragana-only input (spec §8 round-trip law).
type Normalizer interface {
	ToHiragana(text string) string
}

// katakanaToHiraganaOffset is the fixed code-point distance between the
// Katakana and Hiragana blocks (U+30A1-U+30F6 maps to U+3041-U+3096).
const katakanaToHiraganaOffset = 0x30A1 - 0x3041

// KatakanaFold is a Normalizer that folds katakana code points to their
// hiragana equivalents and leaves every other rune (including hiragana
// itself) untouched. It is not a true acoustic-to-kana converter — that
// model is the out-of-scope external collaborator spec.md defers to — but
// it satisfies the pure/deterministic/idempotent-on-hiragana contract so
// the pipeline has a working default when no external kana service is
// configured.
type KatakanaFold struct{}

// ToHiragana implements Normalizer.
func (KatakanaFold) ToHiragana(text string) string {
	runes := []rune(text)
	out := make([]rune, len(runes))
	for i, r := range runes {
		if r >= 0x30A1 && r <= 0x30F6 {
			out[i] = r - katakanaToHiraganaOffset
		} else {
			out[i] = r
		}
	}
	return string(out)
}
