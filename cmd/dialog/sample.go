package main

import (
	"github.com/voicetyped/adaptive/pkg/dialog"
	"github.com/voicetyped/adaptive/pkg/hooks"
	"github.com/voicetyped/adaptive/pkg/recognizer"
	"github.com/voicetyped/adaptive/pkg/schema"
)

type sampleOptions struct {
	recognizer recognizer.Recognizer
	schemas    *schema.Loader
	selector   dialog.Selector
	autoEnd    bool
	orderHook  hooks.Config
}

func helpDialog() *dialog.AdaptiveDialog {
	return dialog.NewAdaptiveDialog("help", dialog.WithTriggers(dialog.OnBeginDialog(
		dialog.Send("I take sandwich orders. Tell me the bread, the size and how many you want."),
	)))
}

// sandwichDialog collects a bread, a size and a quantity from free text.
func sandwichDialog(o sampleOptions) *dialog.AdaptiveDialog {
	confirm := []dialog.Dialog{
		dialog.Set("dialog.order", "{{.dialog.quantity}} {{with .dialog.size}}{{.}} {{end}}{{.dialog.bread}}"),
		dialog.Send("Ordering {{.dialog.order}}."),
	}
	if o.orderHook.URL != "" {
		confirm = append(confirm,
			dialog.Hook(o.orderHook),
			dialog.If(`{{.turn.lastResult.error}}`, dialog.Send("The kitchen did not answer, please try again later.")),
		)
	}
	confirm = append(confirm, dialog.End("dialog.order"))

	return dialog.NewAdaptiveDialog("sandwich",
		dialog.WithRecognizer(o.recognizer),
		dialog.WithSchemaFrom(o.schemas, "sandwich"),
		dialog.WithSelector(o.selector),
		dialog.WithAutoEndDialog(o.autoEnd),
		dialog.WithResultProperty("dialog.order"),
		dialog.WithDialogs(helpDialog()),
		dialog.WithTriggers(
			dialog.OnIntent("order", dialog.Send("Let's build your sandwich.")),
			dialog.OnIntent("help", dialog.Call("help", "")),
			dialog.OnIntent("cancel", dialog.Send("Order cancelled."), dialog.Cancel()),

			dialog.OnAssignEntity("bread", "bread",
				dialog.Set("dialog.bread", `{{index .turn.recognized.entities.bread 0}}`),
			),
			dialog.OnAssignEntity("quantity", "number",
				dialog.Set("dialog.quantity", `{{index .turn.recognized.entities.number 0}}`),
			),
			dialog.OnAssignEntity("size", "size",
				dialog.Set("dialog.size", `{{index .turn.recognized.entities.size 0}}`),
				dialog.Send("{{.dialog.size}} it is."),
			),
			dialog.OnChooseEntity("size", dialog.AskFor("Did you mean small or medium?", "size")),
			dialog.OnChooseProperty(dialog.AskFor("Is that the quantity or the size?", "quantity", "size")),

			dialog.OnEndOfActions(dialog.AskFor("Which bread? Wheat, rye or white?", "bread")).
				When(`{{not .dialog.bread}}`),
			dialog.OnEndOfActions(dialog.AskFor("How many sandwiches?", "quantity")).
				When(`{{and .dialog.bread (not .dialog.quantity)}}`),
			dialog.OnEndOfActions(confirm...).
				When(`{{and .dialog.bread .dialog.quantity}}`),
		),
	)
}
