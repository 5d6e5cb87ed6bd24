package match

// Distance is the optimal string alignment distance between a and b, compared
// rune by rune without regard to case. Insertion, deletion, substitution and
// transposition of two adjacent runes each cost 1.
func Distance(a, b string) int {
	l := []rune(a)
	r := []rune(b)
	cols := len(r) + 1
	d := make([]int, (len(l)+1)*cols)
	at := func(i, j int) *int { return &d[i*cols+j] }

	for i := 0; i <= len(l); i++ {
		*at(i, 0) = i
	}
	for j := 0; j <= len(r); j++ {
		*at(0, j) = j
	}

	for i := 1; i <= len(l); i++ {
		for j := 1; j <= len(r); j++ {
			cost := 1
			if runeEqualFold(l[i-1], r[j-1]) {
				cost = 0
			}
			w := min(*at(i-1, j)+1, *at(i, j-1)+1, *at(i-1, j-1)+cost)
			if i > 1 && j > 1 && runeEqualFold(l[i-1], r[j-2]) && runeEqualFold(l[i-2], r[j-1]) {
				w = min(w, *at(i-2, j-2)+1)
			}
			*at(i, j) = w
		}
	}
	return *at(len(l), len(r))
}
