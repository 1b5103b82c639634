package main

import (
	"flag"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
)

// ErrUserAborted is returned by Interact if the user aborts the form.
var ErrUserAborted = huh.ErrUserAborted

// Question asked interactively to fill the value of a flag.
type Question struct {
	Title string
	Flag  *flag.Flag

	// Values to choose from, and optionally their descriptions.
	Values             []string
	ValuesDescriptions []string

	// CustomValues allows the user to type a value not in Values.
	CustomValues bool

	// ValidateFn is called after the flag is set, if not nil.
	ValidateFn func() error
}

// customOption is the option selected to type a custom value.
const customOption = "\x00custom"

// Interact asks the questions, one group per question, and sets the flags to the answers.
func Interact(command string, questions []Question) error {
	for _, q := range questions {
		if q.Flag == nil {
			return errors.Errorf("question %q has no flag", q.Title)
		}
		answer := q.Flag.Value.String()
		options := make([]huh.Option[string], 0, len(q.Values)+1)
		for i, value := range q.Values {
			key := value
			if key == "" {
				key = "(none)"
			}
			if i < len(q.ValuesDescriptions) {
				key = fmt.Sprintf("%s: %s", key, q.ValuesDescriptions[i])
			}
			options = append(options, huh.NewOption(key, value))
		}
		if q.CustomValues {
			options = append(options, huh.NewOption("Other...", customOption))
		}
		err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title(q.Title).
				Description(fmt.Sprintf("%s -%s: %s", command, q.Flag.Name, q.Flag.Usage)).
				Options(options...).
				Value(&answer),
		)).Run()
		if err != nil {
			return err
		}
		if answer == customOption {
			answer = q.Flag.Value.String()
			err = huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title(q.Title).
					Value(&answer).
					Validate(func(value string) error { return q.Flag.Value.Set(value) }),
			)).Run()
			if err != nil {
				return err
			}
		}
		if err = q.Flag.Value.Set(answer); err != nil {
			return errors.Wrapf(err, "setting -%s=%q", q.Flag.Name, answer)
		}
		if q.ValidateFn != nil {
			if err = q.ValidateFn(); err != nil {
				return errors.WithMessagef(err, "invalid %s", q.Title)
			}
		}
	}
	return nil
}
