package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"cfo"
	"cfo/Filters"
)

// 手动输入频偏 (Hz)，通过 CI-V 移动电台频率抵消它 (方向按当前模式)
func main() {
	// 1. 配置串口参数
	// 请根据实际情况修改串口设备名
	portName := "/dev/tty.SLAB_USBtoUART"
	baudRate := 115200

	fmt.Printf("Connecting to ICOM 7300 on %s...\n", portName)

	client := cfo.NewCIVClient(portName, baudRate)
	if err := client.Open(); err != nil {
		log.Fatalf("Failed to open serial port: %v\n", err)
	}
	defer client.Close()

	freq, err := client.ReadFrequency()
	if err != nil {
		log.Fatalf("Failed to read frequency: %v\n", err)
	}
	fmt.Printf("Connected. Dial at %d Hz.\n", freq)
	fmt.Println("Type a measured offset in Hz (e.g. -12.5) and press Enter. 'reset' clears the total, 'exit' to stop.")

	// 手动模式: 增益 1，无死区，一次修到位
	rc := cfo.NewRigCorrector(client, Filters.NewAFC(1.0, 0, 500))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.ToLower(input) == "exit" || strings.ToLower(input) == "quit" {
			break
		}

		if strings.ToLower(input) == "reset" {
			rc.Reset()
			fmt.Println("Correction total cleared.")
			continue
		}

		hz, err := strconv.ParseFloat(input, 64)
		if err != nil {
			fmt.Printf("Not a number: %q\n", input)
			continue
		}
		step, err := rc.Apply(hz)
		if err != nil {
			log.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("Moved %+d Hz\n", step)
	}

	fmt.Println("Bye.")
}
