// Command kiosk drives one check-in against a running API from the command
// line. The camera is replayed from an image file, which makes the harness
// usable on headless machines.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"campuscheck/internal/capture"
	"campuscheck/internal/checkin"
	"campuscheck/internal/geo"
	"campuscheck/internal/verify"
)

type fixedLocator struct {
	coord geo.Coordinate
	known bool
}

func (l fixedLocator) Locate(ctx context.Context) (geo.Coordinate, error) {
	if !l.known {
		return geo.Coordinate{}, fmt.Errorf("location unavailable")
	}
	return l.coord, nil
}

func main() {
	var (
		apiURL    = flag.String("api", "http://localhost:8081", "check-in API base URL")
		studentID = flag.String("student", "", "student id to check in")
		photo     = flag.String("photo", "", "image file replayed as the camera frame")
		lat       = flag.Float64("lat", 27.71477743675058, "device latitude")
		lng       = flag.Float64("lng", 85.30895279815599, "device longitude")
		radius    = flag.Float64("radius", 100, "campus fence radius in meters")
		noLoc     = flag.Bool("no-location", false, "simulate a denied location provider")
		timeout   = flag.Duration("timeout", 15*time.Second, "verification request timeout")
	)
	flag.Parse()

	if *studentID == "" || *photo == "" {
		fmt.Fprintln(os.Stderr, "usage: kiosk -student <id> -photo <file> [-api url]")
		os.Exit(2)
	}

	token, err := openSession(*apiURL, *studentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session: %v\n", err)
		os.Exit(1)
	}

	fence := geo.Fence{
		Center:       geo.Coordinate{Latitude: *lat, Longitude: *lng},
		RadiusMeters: *radius,
	}
	flow := checkin.New(
		checkin.Session{StudentID: *studentID, DeviceID: "kiosk-cli"},
		fence,
		fixedLocator{coord: geo.Coordinate{Latitude: *lat, Longitude: *lng}, known: !*noLoc},
		capture.FileDevice{Path: *photo},
		verify.NewClient(*apiURL, token, *timeout),
	)

	ctx := context.Background()
	step := func(name string, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("%-8s -> %s\n", name, flow.State())
	}

	step("start", flow.Start(ctx))
	if g := flow.Geo(); g.Known {
		fmt.Printf("geofence    within=%v distance=%.0fm\n", g.Result.WithinFence, g.Result.DistanceMeters)
	} else {
		fmt.Println("geofence    location unknown")
	}
	step("capture", flow.Capture())
	step("confirm", flow.Confirm(ctx))

	outcome, ok := flow.Outcome()
	if !ok {
		kind, cause := flow.Failure()
		fmt.Fprintf(os.Stderr, "failed (%s): %v\n", kind, cause)
		os.Exit(1)
	}
	fmt.Printf("outcome     verified=%v confidence=%.2f reason=%s\n",
		outcome.Verified, outcome.Confidence, outcome.Reason)
	if err := flow.Acknowledge(); err == nil {
		fmt.Printf("ack      -> %s\n", flow.State())
	}
	if !outcome.Verified {
		os.Exit(1)
	}
}

func openSession(apiURL, studentID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"student_id": studentID})
	resp, err := http.Post(apiURL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("empty token in response")
	}
	return out.AccessToken, nil
}
