package main

import (
	"fmt"

	echoapi "github.com/trezcool/mahudhurio/apps/api/echo"
)

// token mints an operator JWT for the management API.
func (cli *commandLine) token(username string, admin bool) error {
	claims := echoapi.NewOperatorClaims(cli.conf, username, admin)
	ss, err := echoapi.GenerateToken(cli.conf, claims)
	if err != nil {
		return err
	}
	fmt.Println(ss)
	return nil
}
