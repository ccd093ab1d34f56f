package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/storage/database"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf *core.Config
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  createdb                        - create the database and app user if they do not exist")
	fmt.Println("  migrate up|down|status|...      - run database migrations")
	fmt.Println("  generate [-date YYYY-MM-DD]     - materialize the day's sessions from the weekly template")
	fmt.Println("  token -username USERNAME [-admin] - mint an operator token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	generateCmd := flag.NewFlagSet("generate", flag.ExitOnError)
	generateDate := generateCmd.String("date", "", "The date to materialize (YYYY-MM-DD). Defaults to today.")

	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenUname := tokenCmd.String("username", "", "The operator's username.")
	tokenAdmin := tokenCmd.Bool("admin", false, "Grant admin rights.")

	switch args[1] {
	case "createdb":
		return database.CreateIfNotExist(cli.conf)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "generate":
		if err := generateCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.generate(*generateDate)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenUname == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenUname, *tokenAdmin)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) openDB() (*sql.DB, error) {
	db, err := database.Open(cli.conf)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
