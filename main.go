package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maxkimambo/taskrun/cmd"
	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		fmt.Fprint(os.Stderr, taskerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
