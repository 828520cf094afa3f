package main

import "findsanity/internal/app"

func main() {
	app.Main()
}
