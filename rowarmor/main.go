// Command rowarmor simulates a DRAM memory controller under RowHammer
// mitigations.
package main

import "github.com/sarchlab/rowarmor/rowarmor/cmd"

func main() {
	cmd.Execute()
}
