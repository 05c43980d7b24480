package orchestration

import (
	"context"
	"fmt"

	"github.com/slidekick/slidekick-core/core/commands"
)

const (
	directionNext = "next"
	directionPrev = "prev"
	directionJump = "jump"
)

type navigateSlideArgs struct {
	Direction string `json:"direction" jsonschema:"enum=next,enum=prev,enum=jump,description=How to move through the deck"`
	Index     *int   `json:"index,omitempty" jsonschema:"description=1-based slide number, required when direction is jump"`
}

type presentationContextArgs struct{}

// navigationCommands are the synchronous deck controls. They mutate session
// state relative to its value at call time and confirm the new position
// before dispatch returns, which is what gives the presenter immediate
// feedback.
func navigationCommands(session *sessionState) ([]commands.Command, error) {
	navigate, err := commands.New("navigate_slide",
		"Move through the slide deck. Use direction=jump with a 1-based index to go to a specific slide.",
		func(ctx context.Context, args navigateSlideArgs) (map[string]any, error) {
			var (
				index int
				err   error
			)
			switch args.Direction {
			case directionNext:
				index, err = session.advance()
			case directionPrev:
				index, err = session.retreat()
			case directionJump:
				if args.Index == nil {
					return nil, commands.NewArgumentError("index", "index is required when direction is jump")
				}
				index, err = session.jumpTo(*args.Index - 1)
			default:
				return nil, commands.NewArgumentError("direction", fmt.Sprintf("unsupported direction %q", args.Direction))
			}
			if err != nil {
				return nil, err
			}

			_, totalUnits := session.position()
			return map[string]any{
				"action":        "navigate",
				"direction":     args.Direction,
				"current_slide": index,
				"total_slides":  totalUnits,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	presentationContext, err := commands.New("get_presentation_context",
		"Report the current slide position and deck size.",
		func(ctx context.Context, _ presentationContextArgs) (map[string]any, error) {
			currentIndex, totalUnits := session.position()
			return map[string]any{
				"current_slide": currentIndex,
				"total_slides":  totalUnits,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	return []commands.Command{navigate, presentationContext}, nil
}
