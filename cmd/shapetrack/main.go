package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"shapetrack/pkg/config"
	"shapetrack/pkg/dataset"
	"shapetrack/pkg/detection"
	"shapetrack/pkg/geometry"
	"shapetrack/pkg/imaging"
	"shapetrack/pkg/regression"
	"shapetrack/pkg/visualization"

	disintegration "github.com/disintegration/imaging"
)

func main() {
	// Parse command line arguments
	mode := flag.String("mode", "train", "Operation mode: train or predict")
	configPath := flag.String("config", "shapetrack.yaml", "Path to YAML configuration file")
	dataDir := flag.String("data", "", "Directory with training images and .pts landmark files")
	rectsCSV := flag.String("rects", "", "Optional CSV with detection rectangles (name,x,y,w,h)")
	modelPath := flag.String("model", "shapetrack.bin", "Cascade model file to write (train) or read (predict)")
	imagePath := flag.String("image", "", "Image to run prediction on")
	cascadePath := flag.String("cascade", "", "Pigo face cascade file for initial rectangles")
	outputPath := flag.String("output", "prediction.jpg", "Overlay image written by predict")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	switch *mode {
	case "train":
		if *dataDir == "" {
			flag.Usage()
			os.Exit(1)
		}
		if err := train(cfg, *dataDir, *rectsCSV, *modelPath); err != nil {
			log.Fatalf("Training failed: %v", err)
		}
	case "predict":
		if *imagePath == "" {
			flag.Usage()
			os.Exit(1)
		}
		if err := predict(*modelPath, *imagePath, *cascadePath, *outputPath); err != nil {
			log.Fatalf("Prediction failed: %v", err)
		}
	default:
		log.Fatalf("Unknown mode %q (want train or predict)", *mode)
	}
}

func train(cfg *config.Config, dataDir, rectsCSV, modelPath string) error {
	rng := rand.New(rand.NewSource(cfg.Training.Seed))

	fmt.Println("Step 1: Loading landmark database...")
	data, err := dataset.Load(dataDir, rectsCSV, dataset.ImportParams{
		MaxImageSideLength: cfg.Dataset.MaxImageSideLength,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d image/landmark pairs\n", len(data.Entries))

	trainData, validation := data.Partition(cfg.Sampling.ValidationFraction, rng)
	fmt.Printf("Training on %d entries, holding out %d for validation\n",
		len(trainData.Entries), len(validation.Entries))

	fmt.Println("Step 2: Creating training samples...")
	meanShape, err := trainData.MeanShape()
	if err != nil {
		return err
	}
	samples, err := trainData.CreateSamples(cfg.SampleParams(), rng)
	if err != nil {
		return err
	}
	fmt.Printf("Created %d training samples\n", len(samples))

	fmt.Println("Step 3: Fitting cascade...")
	td := &regression.TrainingData{
		Params:     cfg.TrainingParams(),
		Samples:    samples,
		MeanShape:  meanShape,
		Rand:       rng,
		NumWorkers: cfg.Training.NumWorkers,
	}
	tracker := &regression.Tracker{}
	startTime := time.Now()
	if err := tracker.Fit(td); err != nil {
		return err
	}
	fmt.Printf("Cascade fitted in %.2f seconds\n", time.Since(startTime).Seconds())

	fmt.Println("Step 4: Saving model...")
	if err := tracker.Save(modelPath); err != nil {
		return err
	}
	fmt.Printf("Model saved to: %s\n", modelPath)

	if len(validation.Entries) > 0 {
		fmt.Println("Step 5: Validating...")
		var errSum float64
		var n int
		for _, e := range validation.Entries {
			initial, err := detection.InitialEstimate(tracker.MeanShape(), e.Rect)
			if err != nil {
				return err
			}
			predicted, err := tracker.Predict(e.Image, initial)
			if err != nil {
				return err
			}
			for i := range predicted {
				errSum += predicted[i].Sub(e.Shape[i]).Norm()
				n++
			}
		}
		fmt.Printf("Validation mean landmark error: %.4f pixels\n", errSum/float64(n))
	}
	return nil
}

func predict(modelPath, imagePath, cascadePath, outputPath string) error {
	tracker, err := regression.LoadTracker(modelPath)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded cascade with %d stages\n", tracker.NumStages())

	src, err := disintegration.Open(imagePath)
	if err != nil {
		return err
	}
	img := imaging.FromImage(src)

	// Seed the estimate from a face detection when a cascade file is given,
	// otherwise from the full image extent.
	rect := geometry.Rect{MaxX: float64(img.Width), MaxY: float64(img.Height)}
	if cascadePath != "" {
		detector, err := detection.NewFromFile(cascadePath, detection.DefaultParams())
		if err != nil {
			return err
		}
		rects := detector.Detect(img)
		if len(rects) == 0 {
			return fmt.Errorf("no face detected in %s", imagePath)
		}
		rect = rects[0]
		fmt.Printf("Detected face at (%.0f,%.0f)-(%.0f,%.0f)\n", rect.MinX, rect.MinY, rect.MaxX, rect.MaxY)
	}

	initial, err := detection.InitialEstimate(tracker.MeanShape(), rect)
	if err != nil {
		return err
	}
	shape, err := tracker.Predict(img, initial)
	if err != nil {
		return err
	}

	if err := visualization.SaveOverlay(outputPath, img, shape); err != nil {
		return err
	}
	fmt.Printf("Prediction overlay written to: %s\n", outputPath)
	return nil
}
