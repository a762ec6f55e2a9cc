package main

import (
	"github.com/gravitational/trace"
	"github.com/manifoldco/promptui"
)

// Prompter asks the person at the terminal for a value.
type Prompter interface {
	Prompt(label string, secret bool) (string, error)
}

type promptUI struct{}

func (promptUI) Prompt(label string, secret bool) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if s == "" {
				return trace.BadParameter("%s cannot be empty", label)
			}
			return nil
		},
	}
	if secret {
		prompt.Mask = '*'
	}
	value, err := prompt.Run()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return value, nil
}

// askIfEmpty prompts for the value unless it was already given.
func askIfEmpty(p Prompter, value *string, label string, secret bool) error {
	if *value != "" {
		return nil
	}
	answer, err := p.Prompt(label, secret)
	if err != nil {
		return trace.Wrap(err)
	}
	*value = answer
	return nil
}
