// Package rs implements the Reed-Solomon codec used to protect message
// frames against lost or altered signal posts. The code operates over
// GF(2^8) with primitive polynomial 0x11D and generator roots starting at
// alpha^0, and corrects up to ec/2 symbol errors at unknown locations
// using Berlekamp-Massey, Chien search and Forney's formula.
package rs

import (
	"errors"
	"fmt"
)

// ECBytes is the parity length the channel protocol pins: 8 parity symbols,
// correcting up to 4 byte errors per frame.
const ECBytes = 8

var (
	// ErrUncorrectable is returned when the received block has more errors
	// than the parity can repair.
	ErrUncorrectable = errors.New("rs: uncorrectable block")

	// ErrBadInput is returned for empty data or a data+parity length that
	// does not fit a GF(2^8) codeword.
	ErrBadInput = errors.New("rs: bad input")
)

// Encode appends ecBytes parity symbols to data and returns the codeword.
// data is not modified.
func Encode(data []byte, ecBytes int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrBadInput)
	}
	if ecBytes <= 0 || len(data)+ecBytes > 255 {
		return nil, fmt.Errorf("%w: %d data + %d parity exceeds one codeword", ErrBadInput, len(data), ecBytes)
	}

	gen := generatorPoly(ecBytes)
	parity := make([]byte, ecBytes)

	// Polynomial long division of data*x^ec by the generator; the running
	// remainder becomes the parity.
	for _, d := range data {
		factor := d ^ parity[0]
		copy(parity, parity[1:])
		parity[ecBytes-1] = 0
		if factor != 0 {
			for j := 0; j < ecBytes; j++ {
				parity[j] ^= gfMul(gen[j+1], factor)
			}
		}
	}

	out := make([]byte, 0, len(data)+ecBytes)
	out = append(out, data...)
	return append(out, parity...), nil
}

// Decode corrects a codeword of data plus ecBytes parity in place and
// returns the number of symbols that were repaired. The block is left
// untouched when it cannot be corrected.
func Decode(block []byte, ecBytes int) (int, error) {
	n := len(block)
	if n <= ecBytes {
		return 0, fmt.Errorf("%w: block shorter than parity", ErrBadInput)
	}
	if n > 255 {
		return 0, fmt.Errorf("%w: block exceeds one codeword", ErrBadInput)
	}

	synd := make([]byte, ecBytes)
	clean := true
	for i := range synd {
		synd[i] = evalBlock(block, expTable[i])
		if synd[i] != 0 {
			clean = false
		}
	}
	if clean {
		return 0, nil
	}

	sigma, err := errorLocator(synd)
	if err != nil {
		return 0, err
	}
	degree := len(sigma) - 1

	positions := chienSearch(sigma, n)
	if len(positions) != degree {
		return 0, ErrUncorrectable
	}

	// Error evaluator: omega = synd * sigma mod x^ec.
	omega := make([]byte, ecBytes)
	for i, s := range synd {
		if s == 0 {
			continue
		}
		for j := 0; j < len(sigma) && i+j < ecBytes; j++ {
			omega[i+j] ^= gfMul(s, sigma[j])
		}
	}

	// Forney: magnitude at position j is X_j * omega(1/X_j) / sigma'(1/X_j).
	corrected := append([]byte(nil), block...)
	repairs := 0
	for _, pos := range positions {
		x := expTable[(n-1-pos)%255]
		xinv := gfDiv(1, x)

		var denom byte
		for k := 1; k < len(sigma); k += 2 {
			denom ^= gfMul(sigma[k], gfPow(xinv, k-1))
		}
		if denom == 0 {
			return 0, ErrUncorrectable
		}

		magnitude := gfMul(x, gfDiv(polyEval(omega, xinv), denom))
		if magnitude != 0 {
			corrected[pos] ^= magnitude
			repairs++
		}
	}

	// The key equation can produce a self-consistent but wrong solution
	// when the error count exceeds capacity; re-checking the syndromes
	// catches that case.
	for i := 0; i < ecBytes; i++ {
		if evalBlock(corrected, expTable[i]) != 0 {
			return 0, ErrUncorrectable
		}
	}

	copy(block, corrected)
	return repairs, nil
}

// generatorPoly returns prod_{i=0}^{ec-1} (x - alpha^i) with descending
// coefficients (index 0 is x^ec).
func generatorPoly(ecBytes int) []byte {
	g := []byte{1}
	for i := 0; i < ecBytes; i++ {
		next := make([]byte, len(g)+1)
		root := expTable[i]
		for j, c := range g {
			next[j] ^= c
			next[j+1] ^= gfMul(c, root)
		}
		g = next
	}
	return g
}

// errorLocator runs Berlekamp-Massey over the syndromes and returns the
// error locator polynomial sigma with ascending coefficients (sigma[0]=1).
func errorLocator(synd []byte) ([]byte, error) {
	cur := []byte{1}
	prev := []byte{1}
	length := 0
	shift := 1
	lastDisc := byte(1)

	for i := range synd {
		disc := synd[i]
		for j := 1; j <= length && j < len(cur); j++ {
			disc ^= gfMul(cur[j], synd[i-j])
		}

		switch {
		case disc == 0:
			shift++
		case 2*length <= i:
			saved := append([]byte(nil), cur...)
			cur = addShifted(cur, prev, gfDiv(disc, lastDisc), shift)
			length = i + 1 - length
			prev = saved
			lastDisc = disc
			shift = 1
		default:
			cur = addShifted(cur, prev, gfDiv(disc, lastDisc), shift)
			shift++
		}
	}

	if length == 0 || 2*length > len(synd) {
		return nil, ErrUncorrectable
	}
	// Trim trailing zero coefficients so the degree matches the length.
	for len(cur) > length+1 {
		if cur[len(cur)-1] != 0 {
			return nil, ErrUncorrectable
		}
		cur = cur[:len(cur)-1]
	}
	return cur, nil
}

// addShifted returns cur + coef * x^shift * prev.
func addShifted(cur, prev []byte, coef byte, shift int) []byte {
	out := append([]byte(nil), cur...)
	for j, p := range prev {
		idx := j + shift
		for len(out) <= idx {
			out = append(out, 0)
		}
		out[idx] ^= gfMul(coef, p)
	}
	return out
}

// chienSearch returns the block positions whose locators are roots of sigma.
func chienSearch(sigma []byte, n int) []int {
	var positions []int
	for pos := 0; pos < n; pos++ {
		power := (n - 1 - pos) % 255
		xinv := expTable[(255-power)%255]
		if polyEval(sigma, xinv) == 0 {
			positions = append(positions, pos)
		}
	}
	return positions
}
