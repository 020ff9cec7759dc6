package normalizer

import "testing"

func TestKatakanaFoldConvertsKatakana(t *testing.T) {
	n := KatakanaFold{}
	got := n.ToHiragana("コンニチハ")
	want := "こんにちは"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestKatakanaFoldIdempotentOnHiragana(t *testing.T) {
	n := KatakanaFold{}
	in := "こんにちは世界"
	if got := n.ToHiragana(in); got != in {
		t.Fatalf("expected idempotent no-op, got %q", got)
	}
}

func TestKatakanaFoldLeavesOtherRunesUntouched(t *testing.T) {
	n := KatakanaFold{}
	in := "Hello、こんにちは123"
	if got := n.ToHiragana(in); got != in {
		t.Fatalf("got %q, want %q", got, in)
	}
}
