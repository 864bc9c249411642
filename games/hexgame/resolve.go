package hexgame

import "sort"

// ResolveMoves は同時に出された移動要求のうち、実行できるものだけを返します。
//
// positions はドローン番号ごとの現在位置、intents は移動しようとするドローンの
// 目的地です。
//  1. 複数のドローンが同じマスを目指した場合、その全員の移動を取り消す。
//  2. 目的地に居るドローンがそのマスから出ていかない(移動しない、または入れ替わり)
//     場合は取り消す。取り消しで新たに塞がったマスを目指すドローンを再検査し、
//     取り消しが起きなくなるまで繰り返す。
//
// 列になった移動は前から順に成立し、2機の入れ替わりは拒否され、3機以上の
// 回転は全員が次のマスへ空けるので成立します。
func ResolveMoves(positions []Hex, intents map[int]Hex) map[int]Hex {
	moves := make(map[int]Hex, len(intents))
	for i, dest := range intents {
		if i < 0 || i >= len(positions) || dest == positions[i] {
			continue
		}
		moves[i] = dest
	}

	// 同じマスを狙う移動は全て取り消し
	contested := make(map[Hex]int, len(moves))
	for _, dest := range moves {
		contested[dest]++
	}
	for i, dest := range moves {
		if contested[dest] > 1 {
			delete(moves, i)
		}
	}

	occupant := make(map[Hex]int, len(positions))
	for i, pos := range positions {
		occupant[pos] = i
	}
	// 目的地は一意になったので逆引きできる
	targeting := make(map[Hex]int, len(moves))
	for i, dest := range moves {
		targeting[dest] = i
	}

	worklist := make([]int, 0, len(moves))
	for i := range moves {
		worklist = append(worklist, i)
	}
	sort.Ints(worklist)

	for len(worklist) > 0 {
		i := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		dest, ok := moves[i]
		if !ok {
			continue
		}
		blocker, occupied := occupant[dest]
		if !occupied || blocker == i {
			continue
		}
		blockerDest, moving := moves[blocker]
		if moving && blockerDest != positions[i] {
			continue
		}

		delete(moves, i)
		delete(targeting, dest)
		// i は動かなくなったので、i の位置を狙っていたドローンを再検査
		if j, ok := targeting[positions[i]]; ok {
			worklist = append(worklist, j)
		}
	}

	return moves
}
