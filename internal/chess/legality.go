// Package chess adapts the move-legality rules for the room layer: it judges
// a claimed position transition for a given mover and hands back the
// server-derived canonical fen, never the client's raw string.
package chess

import (
	"fmt"

	chesslib "github.com/corentings/chess"

	"github.com/rocketscienceinc/chessroom-backend/internal/entity"
	"github.com/rocketscienceinc/chessroom-backend/internal/protocol"
)

// StartingFEN - the standard initial position every room is seeded with.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Canonicalize - parses a fen and re-emits it in the library's canonical
// form, so formatting drift never enters the stored history.
func Canonicalize(fen string) (string, error) {
	option, err := chesslib.FEN(fen)
	if err != nil {
		return "", fmt.Errorf("failed to parse fen: %w", err)
	}

	return chesslib.NewGame(option).Position().String(), nil
}

// ValidateMove - checks a claimed transition from currentFEN to claimedFEN by
// the mover with the given role and color. On success it returns the
// canonical fen of the matched successor and an empty code; on rejection the
// fen is empty and the code names the rule that failed.
func ValidateMove(currentFEN, claimedFEN, color, role string) (string, string) {
	if role != entity.RolePlayer || color == entity.ColorNone {
		return "", protocol.CodeSpectatorCannotMove
	}

	option, err := chesslib.FEN(currentFEN)
	if err != nil {
		return "", protocol.CodeIllegalMove
	}

	game := chesslib.NewGame(option)

	if !isMoversTurn(game.Position().Turn(), color) {
		return "", protocol.CodeNotYourTurn
	}

	claimed, err := Canonicalize(claimedFEN)
	if err != nil {
		return "", protocol.CodeIllegalMove
	}

	for _, move := range game.ValidMoves() {
		successor := game.Position().Update(move).String()
		if successor == claimed {
			return successor, ""
		}
	}

	return "", protocol.CodeIllegalMove
}

func isMoversTurn(turn chesslib.Color, color string) bool {
	if turn == chesslib.White {
		return color == entity.ColorWhite
	}
	return color == entity.ColorBlack
}
