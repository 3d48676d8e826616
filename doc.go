/*
Package testcord provides a test harness for discord bots built on discordgo. It runs
the bot under test against a fully simulated discord: REST calls are answered by a
fake API, the gateway connection terminates on an in-process fake gateway, and the
simulated server state sits behind both, so the bot's handlers and API calls behave
the way they do against the real service.

A test creates a Runner, registers the bot's handlers on its session, starts it,
injects messages as if human members had typed them and then verifies what the bot
did:

	runner, err := testcord.New("MyBot", nil)
	require.NoError(t, err)
	defer runner.Close()

	mybot.Register(runner.Session())
	require.NoError(t, runner.Start())

	_, err = runner.SendMessage("!ping")
	require.NoError(t, err)

	runner.Verify().Message().Content(t, "pong")
	runner.Verify().Message().Nothing(t)

SendMessage blocks until the bot has finished processing the injected message, so
responses are captured deterministically, without sleeps or polling.
*/
package testcord
